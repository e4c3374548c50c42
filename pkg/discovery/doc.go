// Package discovery advertises and finds daqlink devices over mDNS/DNS-SD.
//
// Devices and bridges register the service type _daqlink._tcp in the
// local domain. The advertised port is the first port of the device's
// scan range as bound, so a client can dial it directly. TXT records
// carry the role of the advertiser and an optional system name:
//
//	role=device name=readout-1 ver=1
//
// Browsing aggregates the answers of all interfaces per instance name.
package discovery
