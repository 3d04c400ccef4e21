// Package bsb holds the BSB-LAN wire types shared by the device client, the
// object store and the synchronization bridge.
//
// BSB-LAN is a gateway that exposes the parameters of a heating controller's
// BSB/LPB bus as HTTP/JSON. Each parameter carries a data type which decides
// how its value is stored locally and how a written value is encoded.
//
// Data type table:
//
//	0  number                 stored as number
//	1  enum                   stored as number (enumValue)
//	2  bitmask                stored as string
//	3  weekday                stored as string
//	4  time of day  HH:MM     written as HH.MM
//	5  date-time              written with '_' between date and time
//	6  day/month  DD.MM.
//	7  string
//	8  weekly time tuple
//	9  time program           "1. 06:00-22:00 2. ..." written as "06:00-22:00_..."
package bsb
