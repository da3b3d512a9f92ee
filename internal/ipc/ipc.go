// Package ipc joins the IPC markers of all threads so that each side of a
// message knows when the other side observed it.
package ipc

import (
	"github.com/OCAP2/markers/pkg/core"
)

// Thread is the view of one thread needed for correlation.
type Thread struct {
	Pid     int
	Tid     int
	Name    string
	Markers *core.RawMarkerTable
}

// Key identifies one message across processes.
type Key struct {
	SrcPid      int
	DstPid      int
	Seqno       int64
	MessageType string
}

// Slot is one of the five observation points of a message.
type Slot int

const (
	SlotSendEndpoint Slot = iota
	SlotTransferStart
	SlotTransferEnd
	SlotRecvTransferEnd
	SlotRecvEndpoint
	slotCount
)

var slotNames = [...]string{
	SlotSendEndpoint:    "sending/endpoint",
	SlotTransferStart:   "sending/transferStart",
	SlotTransferEnd:     "sending/transferEnd",
	SlotRecvTransferEnd: "receiving/transferEnd",
	SlotRecvEndpoint:    "receiving/endpoint",
}

func (s Slot) String() string {
	if s >= 0 && int(s) < len(slotNames) {
		return slotNames[s]
	}
	return "unknown"
}

func slotOf(p *core.IPCPayload) (Slot, bool) {
	switch {
	case p.Direction == core.IPCSending && p.Phase == core.IPCEndpoint:
		return SlotSendEndpoint, true
	case p.Direction == core.IPCSending && p.Phase == core.IPCTransferStart:
		return SlotTransferStart, true
	case p.Direction == core.IPCSending && p.Phase == core.IPCTransferEnd:
		return SlotTransferEnd, true
	case p.Direction == core.IPCReceiving && p.Phase == core.IPCTransferEnd:
		return SlotRecvTransferEnd, true
	case p.Direction == core.IPCReceiving && p.Phase == core.IPCEndpoint:
		return SlotRecvEndpoint, true
	}
	return 0, false
}

// Conflict reports a slot claimed by more than one row. The later row wins.
type Conflict struct {
	Key    Key
	Slot   Slot
	Thread int
	Row    int
}

type location struct {
	thread, row int
}

type message struct {
	times    [slotCount]core.MaybeTime
	claimed  [slotCount]*location
	sendTid  int
	recvTid  int
	sendName string
	recvName string
}

func keyOf(t Thread, p *core.IPCPayload) Key {
	k := Key{Seqno: p.MessageSeqno, MessageType: p.MessageType}
	if p.Direction == core.IPCSending {
		k.SrcPid, k.DstPid = t.Pid, p.OtherPid
	} else {
		k.SrcPid, k.DstPid = p.OtherPid, t.Pid
	}
	return k
}

// Correlate returns one table per thread in which every IPC payload carries
// the times, thread ids and thread names of both sides of its message.
// Input tables are not modified; tables without IPC rows are returned as is.
func Correlate(threads []Thread) ([]*core.RawMarkerTable, []Conflict) {
	messages := make(map[Key]*message)
	var conflicts []Conflict

	for ti, t := range threads {
		for row := 0; row < t.Markers.Len(); row++ {
			p, ok := t.Markers.Data[row].(*core.IPCPayload)
			if !ok {
				continue
			}
			slot, ok := slotOf(p)
			if !ok {
				continue
			}
			key := keyOf(t, p)
			msg := messages[key]
			if msg == nil {
				msg = &message{}
				messages[key] = msg
			}

			if msg.claimed[slot] != nil {
				conflicts = append(conflicts, Conflict{Key: key, Slot: slot, Thread: ti, Row: row})
			}
			msg.claimed[slot] = &location{thread: ti, row: row}
			msg.times[slot] = core.Time(t.Markers.Row(row).Start())

			if p.Direction == core.IPCSending {
				msg.sendTid, msg.sendName = t.Tid, t.Name
			} else {
				msg.recvTid, msg.recvName = t.Tid, t.Name
			}
		}
	}

	out := make([]*core.RawMarkerTable, len(threads))
	for ti, t := range threads {
		out[ti] = t.Markers
		var cloned bool
		for row := 0; row < t.Markers.Len(); row++ {
			p, ok := t.Markers.Data[row].(*core.IPCPayload)
			if !ok {
				continue
			}
			msg := messages[keyOf(t, p)]
			if msg == nil {
				continue
			}
			if !cloned {
				out[ti] = t.Markers.Clone()
				cloned = true
			}
			out[ti].Data[row] = msg.apply(p)
		}
	}

	return out, conflicts
}

func (m *message) apply(p *core.IPCPayload) *core.IPCPayload {
	joined := *p
	joined.StartTime = m.times[SlotSendEndpoint]
	joined.SendStartTime = m.times[SlotTransferStart]
	joined.SendEndTime = m.times[SlotTransferEnd]
	joined.RecvEndTime = m.times[SlotRecvTransferEnd]
	joined.EndTime = m.times[SlotRecvEndpoint]
	joined.SendTid = m.sendTid
	joined.RecvTid = m.recvTid
	joined.SendThreadName = m.sendName
	joined.RecvThreadName = m.recvName
	return &joined
}
