// Package param parses and normalises BSB-LAN parameter identifiers.
//
// A parameter identifier names one datapoint on the heating bus:
//
//	700          parameter 700
//	20000.9      parameter 20000, address 9
//	710!1        parameter 710 on bus destination 1
//	20000.0!6    parameter 20000, address 0, destination 6
//
// Three projections of an identifier are used in different places:
//
//   - Trim(s): the full identity, used for object storage and uniqueness.
//     A redundant ".0" address is removed, the destination never is.
//   - ID(s): the identity without destination, which is how the device keys
//     its per-parameter responses.
//   - BaseID(s): the bare parameter number, used for category range tests.
//
// All functions are pure and safe for concurrent use.
package param
