// Package channel defines the values shared by every part of the router: the
// process Role, channel Kind and Token, the immutable Handle that names a live
// channel, peer identities, and the Result returned by unlink operations.
package channel
