package profile

import (
	"github.com/OCAP2/markers/pkg/core"
)

// ShiftTimes returns a copy of thread with offset added to its capture
// window, to every raw time and to the times inside payloads. The input is
// left untouched.
func ShiftTimes(thread *Thread, offset core.Milliseconds) *Thread {
	out := *thread
	out.CaptureStart += offset
	out.CaptureEnd += offset
	if offset == 0 || thread.Markers == nil {
		return &out
	}

	table := thread.Markers.Clone()
	for i := 0; i < table.Len(); i++ {
		table.StartTime[i] = table.StartTime[i].Add(offset)
		table.EndTime[i] = table.EndTime[i].Add(offset)
		table.Data[i] = shiftPayload(table.Data[i], offset)
	}
	out.Markers = table
	return &out
}

func shiftPayload(p core.Payload, offset core.Milliseconds) core.Payload {
	switch v := p.(type) {
	case *core.NetworkPayload:
		c := *v
		c.StartTime += offset
		c.EndTime += offset
		for _, f := range []*core.Milliseconds{
			&c.FetchStart, &c.DomainLookupStart, &c.DomainLookupEnd, &c.ConnectStart,
			&c.TCPConnectEnd, &c.SecureConnectionStart, &c.ConnectEnd,
			&c.RequestStart, &c.ResponseStart, &c.ResponseEnd,
		} {
			// zero means the phase was not recorded
			if *f != 0 {
				*f += offset
			}
		}
		return &c
	case *core.IPCPayload:
		c := *v
		c.StartTime = c.StartTime.Add(offset)
		c.SendStartTime = c.SendStartTime.Add(offset)
		c.SendEndTime = c.SendEndTime.Add(offset)
		c.RecvEndTime = c.RecvEndTime.Add(offset)
		c.EndTime = c.EndTime.Add(offset)
		return &c
	case *core.FileIOPayload:
		c := *v
		c.StartTime += offset
		c.EndTime += offset
		c.StackTime = c.StackTime.Add(offset)
		return &c
	default:
		return p
	}
}
