// Package client is the stream client for a device control server.
//
// A Client owns one background worker. While enabled the worker scans the
// device's port range, reads delimiter-terminated frames, decodes them and
// applies them to a Mirror. A frame that fails to parse is logged and
// dropped; a connection that produces no complete frame within the stall
// timeout is closed and the scan starts again after RetryDelay. Stream
// failures never surface to callers: reads keep returning the last known
// values.
//
// Example:
//
//	c, err := client.New(client.Config{Host: "rce1", Logger: logger})
//	if err != nil {
//		return err
//	}
//	c.OnStatus(func(path, value string) error {
//		fmt.Println(path, value)
//		return nil
//	})
//	if err := c.Enable(ctx); err != nil {
//		return err
//	}
//	defer c.Disable()
//	gain, err := c.WaitConfig(ctx, "board(2):gain")
package client
