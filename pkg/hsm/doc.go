// Package hsm provides a high-level client for a YubiHSM2.
//
// A Client owns one secure session and serializes commands over it. It
// opens the session lazily and reopens it once before a command when the
// previous session was torn down (after a transport or protocol failure,
// or when the channel used up its message limit). Failed commands are
// never retried.
//
//	client, err := hsm.NewClient(hsm.ClientConfig{
//	    Opener:      transport.HTTPConfig{URL: "http://127.0.0.1:12345"},
//	    Credentials: credentials.Default(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	out, err := client.Echo(ctx, []byte("hello"))
//
// Errors from the session layer are *session.Error values; match them with
// errors.Is against session.ErrAuthFailed, session.ErrResponse and so on,
// and recover the device status with errors.As into message.ErrorCode.
package hsm
