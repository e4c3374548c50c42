// Package bridge relays between a device stream and the shared store.
//
// A Bridge owns the server side of the store. Structure, configuration,
// status and error messages from the device are written to the store;
// configuration writes and commands that store clients make are polled
// and sent to the device. The device's reply to a configuration write
// arrives as a configuration message and is written back with the server
// serial, which is how store clients see the write confirmed.
package bridge
