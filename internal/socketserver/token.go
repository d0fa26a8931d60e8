package socketserver

import "golang.org/x/sys/unix"

// encodeToken packs a 64-bit token into an EpollEvent's Fd/Pad pair (the
// two int32 halves of epoll_data_t on 64-bit Linux), letting the listener
// use the out-of-range sentinel listenerToken alongside ordinary
// uint32 client tokens in the same 64-bit space (spec §4.5 "Invariants").
func encodeToken(event *unix.EpollEvent, token uint64) {
	event.Fd = int32(uint32(token))
	event.Pad = int32(uint32(token >> 32))
}

func decodeToken(event unix.EpollEvent) uint64 {
	lo := uint64(uint32(event.Fd))
	hi := uint64(uint32(event.Pad))
	return lo | (hi << 32)
}
