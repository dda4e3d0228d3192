package mockhsm

import (
	"cmp"
	"encoding"
	"slices"

	"github.com/backkem/yubihsm/pkg/command"
	"github.com/backkem/yubihsm/pkg/message"
	"github.com/backkem/yubihsm/pkg/object"
)

// Firmware version reported by device-info.
const (
	versionMajor = 2
	versionMinor = 4
	versionPatch = 0
)

// keyLengths is the stored length of each generated key algorithm.
var keyLengths = map[object.Algorithm]uint16{
	object.AlgorithmRSA2048: 256,
	object.AlgorithmECP256:  32,
	object.AlgorithmECP384:  48,
	object.AlgorithmECK256:  32,
	object.AlgorithmED25519: 32,
}

// deleteCapabilities is the capability required to delete each type.
var deleteCapabilities = map[object.Type]object.Capability{
	object.TypeOpaque:            object.CapabilityDeleteOpaque,
	object.TypeAuthenticationKey: object.CapabilityDeleteAuthenticationKey,
	object.TypeAsymmetricKey:     object.CapabilityDeleteAsymmetricKey,
}

func errorResponse(code message.ErrorCode) *message.ResponseMessage {
	return message.NewErrorResponse(code)
}

func respond(t message.CommandType, out encoding.BinaryMarshaler) *message.ResponseMessage {
	b, err := out.MarshalBinary()
	if err != nil {
		return errorResponse(message.ErrorCodeInvalidData)
	}
	return message.NewResponse(t, b)
}

// execute runs an inner command on behalf of an authenticated session.
func (d *Device) execute(s *session, cmd *message.CommandMessage) *message.ResponseMessage {
	if cmd == nil {
		return errorResponse(message.ErrorCodeInvalidData)
	}
	d.handled++

	if d.log != nil {
		d.log.Debugf("session %d: %s", s.id, cmd.Type)
	}

	switch cmd.Type {
	case message.CommandEcho:
		return message.NewResponse(cmd.Type, cmd.Data)
	case message.CommandDeviceInfo:
		return d.deviceInfo(cmd)
	case message.CommandCloseSession:
		if len(cmd.Data) != 0 {
			return errorResponse(message.ErrorCodeWrongLength)
		}
		return message.NewResponse(cmd.Type, nil)
	case message.CommandListObjects:
		return d.listObjects(s, cmd)
	case message.CommandGetObjectInfo:
		return d.getObjectInfo(s, cmd)
	case message.CommandDeleteObject:
		return d.deleteObject(s, cmd)
	case message.CommandGenerateAsymmetricKey:
		return d.generateAsymmetricKey(s, cmd)
	default:
		return errorResponse(message.ErrorCodeInvalidCommand)
	}
}

// authKey returns the metadata of the key that authenticated s.
func (d *Device) authKey(s *session) *command.ObjectInfo {
	return d.objects[command.ObjectRef{ID: s.keyID, Type: object.TypeAuthenticationKey}]
}

// visible reports whether the session shares a domain with the object.
func (d *Device) visible(s *session, info *command.ObjectInfo) bool {
	key := d.authKey(s)
	return key != nil && key.Domains&info.Domains != 0
}

func (d *Device) deviceInfo(cmd *message.CommandMessage) *message.ResponseMessage {
	if len(cmd.Data) != 0 {
		return errorResponse(message.ErrorCodeWrongLength)
	}
	algorithms := make([]object.Algorithm, 0, len(keyLengths)+1)
	for a := range keyLengths {
		algorithms = append(algorithms, a)
	}
	algorithms = append(algorithms, object.AlgorithmAES128YubicoAuthentication)
	slices.Sort(algorithms)

	return respond(cmd.Type, &command.DeviceInfoResponse{
		Major:      versionMajor,
		Minor:      versionMinor,
		Patch:      versionPatch,
		Serial:     d.serial,
		LogTotal:   DefaultLogTotal,
		Algorithms: algorithms,
	})
}

func (d *Device) listObjects(s *session, cmd *message.CommandMessage) *message.ResponseMessage {
	var filter command.ListObjects
	if err := filter.UnmarshalBinary(cmd.Data); err != nil {
		return errorResponse(message.ErrorCodeInvalidData)
	}

	var rsp command.ListObjectsResponse
	for _, info := range d.objects {
		if d.visible(s, info) && filter.Match(info) {
			rsp.Objects = append(rsp.Objects, command.ListEntry{
				ID:       info.ID,
				Type:     info.Type,
				Sequence: info.Sequence,
			})
		}
	}
	slices.SortFunc(rsp.Objects, func(a, b command.ListEntry) int {
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return respond(cmd.Type, &rsp)
}

func (d *Device) getObjectInfo(s *session, cmd *message.CommandMessage) *message.ResponseMessage {
	var req command.GetObjectInfo
	if err := req.UnmarshalBinary(cmd.Data); err != nil {
		return errorResponse(message.ErrorCodeWrongLength)
	}
	info, ok := d.objects[req.ObjectRef]
	if !ok || !d.visible(s, info) {
		return errorResponse(message.ErrorCodeObjectNotFound)
	}
	return respond(cmd.Type, info)
}

func (d *Device) deleteObject(s *session, cmd *message.CommandMessage) *message.ResponseMessage {
	var req command.DeleteObject
	if err := req.UnmarshalBinary(cmd.Data); err != nil {
		return errorResponse(message.ErrorCodeWrongLength)
	}
	info, ok := d.objects[req.ObjectRef]
	if !ok || !d.visible(s, info) {
		return errorResponse(message.ErrorCodeObjectNotFound)
	}
	need, ok := deleteCapabilities[req.Type]
	if !ok || !d.authKey(s).Capabilities.Has(need) {
		return errorResponse(message.ErrorCodeInsufficientPermissions)
	}

	delete(d.objects, req.ObjectRef)
	if req.Type == object.TypeAuthenticationKey {
		delete(d.authKeys, req.ID)
	}
	d.sequences[req.ObjectRef]++
	return respond(cmd.Type, command.DeleteObjectResponse{})
}

func (d *Device) generateAsymmetricKey(s *session, cmd *message.CommandMessage) *message.ResponseMessage {
	var req command.GenerateAsymmetricKey
	if err := req.UnmarshalBinary(cmd.Data); err != nil {
		return errorResponse(message.ErrorCodeWrongLength)
	}
	length, ok := keyLengths[req.Algorithm]
	if !ok || req.Domains == 0 {
		return errorResponse(message.ErrorCodeInvalidData)
	}

	key := d.authKey(s)
	if key == nil ||
		!key.Capabilities.Has(object.CapabilityGenerateAsymmetricKey) ||
		req.Domains&^key.Domains != 0 ||
		!key.DelegatedCapabilities.Has(req.Capabilities) {
		return errorResponse(message.ErrorCodeInsufficientPermissions)
	}

	ref := command.ObjectRef{ID: req.ID, Type: object.TypeAsymmetricKey}
	if ref.ID == 0 {
		ref.ID = d.freeID(object.TypeAsymmetricKey)
		if ref.ID == 0 {
			return errorResponse(message.ErrorCodeStorageFailed)
		}
	} else if _, exists := d.objects[ref]; exists {
		return errorResponse(message.ErrorCodeObjectExists)
	}

	d.objects[ref] = &command.ObjectInfo{
		Capabilities: req.Capabilities,
		ID:           ref.ID,
		Length:       length,
		Domains:      req.Domains,
		Type:         object.TypeAsymmetricKey,
		Algorithm:    req.Algorithm,
		Sequence:     d.sequences[ref],
		Origin:       object.OriginGenerated,
		Label:        req.Label,
	}
	if d.log != nil {
		d.log.Infof("generated %s key %d", req.Algorithm, ref.ID)
	}
	return respond(cmd.Type, &command.GenerateAsymmetricKeyResponse{ID: ref.ID})
}

// freeID returns the lowest unused ID of type t, or zero if none is left.
func (d *Device) freeID(t object.Type) object.ID {
	for id := object.ID(1); id < 0xffff; id++ {
		if _, ok := d.objects[command.ObjectRef{ID: id, Type: t}]; !ok {
			return id
		}
	}
	return 0
}
