// Package coherence defines the MSI protocol messages exchanged between
// cache controllers and the directory, grounded on the shmem_msg
// vocabulary referenced from cache_cntlr.h (GET_SH/GET_EX/UPGRADE and the
// EX_REP/SH_REP/INV_REQ/INV_REP/FLUSH_REQ/FLUSH_REP/WB_REQ/WB_REP reply
// family named directly in spec.md §4.E–F).
package coherence

import (
	"github.com/google/uuid"

	"github.com/sniperarch/memsim/internal/cacheset"
)

// MessageType enumerates every coherence message the core exchanges.
type MessageType int

const (
	GetSh MessageType = iota
	GetEx
	Upgrade
	ExRep
	ShRep
	InvReq
	InvRep
	FlushReq
	FlushRep
	WbReq
	WbRep
)

func (t MessageType) String() string {
	switch t {
	case GetSh:
		return "GET_SH"
	case GetEx:
		return "GET_EX"
	case Upgrade:
		return "UPGRADE"
	case ExRep:
		return "EX_REP"
	case ShRep:
		return "SH_REP"
	case InvReq:
		return "INV_REQ"
	case InvRep:
		return "INV_REP"
	case FlushReq:
		return "FLUSH_REQ"
	case FlushRep:
		return "FLUSH_REP"
	case WbReq:
		return "WB_REQ"
	case WbRep:
		return "WB_REP"
	default:
		return "UNKNOWN_MSG"
	}
}

// Message is one coherence protocol exchange. RequestID disambiguates
// out-of-order replies for the same block address (spec.md §4.E:
// "matched to requests by block address plus a request id"). A random
// UUID rather than a monotonic counter lets requests originating from
// independent controllers never collide without a shared sequence source.
type Message struct {
	Type       MessageType
	BlockAddr  uint64
	Sender     int // arena index of the sending controller
	RequestID  uuid.UUID
	Data       []byte
	State      cacheset.State
	IsPrefetch bool
}
