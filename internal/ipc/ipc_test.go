package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/markers/internal/fixture"
	"github.com/OCAP2/markers/pkg/core"
)

const (
	parentPid  = 3333
	contentPid = 2222
	msgType    = "PContent::Msg_PreferenceUpdate"
)

func ipcRow(b *fixture.Builder, name string, t core.Milliseconds, otherPid int, seqno int64, direction, phase string) {
	b.Row(name, core.Time(t), core.NoTime, core.PhaseInstant, &core.IPCPayload{
		OtherPid:     otherPid,
		MessageType:  msgType,
		MessageSeqno: seqno,
		Direction:    direction,
		Phase:        phase,
	})
}

func twoThreads() (parent, content *fixture.Builder) {
	parent = fixture.New()
	ipcRow(parent, "IPCOut", 30, contentPid, 1, core.IPCSending, core.IPCEndpoint)
	ipcRow(parent, "IPCOut", 31, contentPid, 1, core.IPCSending, core.IPCTransferStart)
	ipcRow(parent, "IPCOut", 32, contentPid, 1, core.IPCSending, core.IPCTransferEnd)
	ipcRow(parent, "IPCOut", 40, contentPid, 2, core.IPCSending, core.IPCEndpoint)

	content = fixture.New()
	ipcRow(content, "IPCIn", 1030, parentPid, 1, core.IPCReceiving, core.IPCTransferEnd)
	ipcRow(content, "IPCIn", 1031, parentPid, 1, core.IPCReceiving, core.IPCEndpoint)
	return parent, content
}

func TestCorrelate_JoinsBothSides(t *testing.T) {
	parent, content := twoThreads()
	threads := []Thread{
		{Pid: parentPid, Tid: 3333, Name: "GeckoMain", Markers: parent.Table},
		{Pid: contentPid, Tid: 2222, Name: "Content Process", Markers: content.Table},
	}

	tables, conflicts := Correlate(threads)

	require.Len(t, tables, 2)
	assert.Empty(t, conflicts)

	for _, table := range []*core.RawMarkerTable{tables[0], tables[1]} {
		p := table.Data[0].(*core.IPCPayload)
		assert.Equal(t, core.Time(30), p.StartTime)
		assert.Equal(t, core.Time(31), p.SendStartTime)
		assert.Equal(t, core.Time(32), p.SendEndTime)
		assert.Equal(t, core.Time(1030), p.RecvEndTime)
		assert.Equal(t, core.Time(1031), p.EndTime)
		assert.Equal(t, 3333, p.SendTid)
		assert.Equal(t, 2222, p.RecvTid)
		assert.Equal(t, "GeckoMain", p.SendThreadName)
		assert.Equal(t, "Content Process", p.RecvThreadName)
	}
}

func TestCorrelate_MissingOtherSide(t *testing.T) {
	parent, content := twoThreads()

	tables, _ := Correlate([]Thread{
		{Pid: parentPid, Tid: 3333, Name: "GeckoMain", Markers: parent.Table},
		{Pid: contentPid, Tid: 2222, Name: "Content Process", Markers: content.Table},
	})

	lone := tables[0].Data[3].(*core.IPCPayload)
	assert.Equal(t, core.Time(40), lone.StartTime)
	assert.False(t, lone.EndTime.Valid)
	assert.Equal(t, "", lone.RecvThreadName)
}

func TestCorrelate_DoesNotMutateInput(t *testing.T) {
	parent, content := twoThreads()
	before := parent.Table.Clone()

	tables, _ := Correlate([]Thread{
		{Pid: parentPid, Markers: parent.Table},
		{Pid: contentPid, Markers: content.Table},
	})

	assert.Equal(t, before, parent.Table)
	assert.NotSame(t, parent.Table, tables[0])
	assert.False(t, parent.Table.Data[0].(*core.IPCPayload).EndTime.Valid)
}

func TestCorrelate_TablesWithoutIPCAreShared(t *testing.T) {
	plain := fixture.New().Instant("Tick", 1)

	tables, conflicts := Correlate([]Thread{{Pid: 1, Markers: plain.Table}})

	assert.Same(t, plain.Table, tables[0])
	assert.Empty(t, conflicts)
}

func TestCorrelate_LaterRowWins(t *testing.T) {
	parent := fixture.New()
	ipcRow(parent, "IPCOut", 30, contentPid, 1, core.IPCSending, core.IPCEndpoint)
	ipcRow(parent, "IPCOut", 35, contentPid, 1, core.IPCSending, core.IPCEndpoint)

	tables, conflicts := Correlate([]Thread{{Pid: parentPid, Markers: parent.Table}})

	require.Len(t, conflicts, 1)
	assert.Equal(t, SlotSendEndpoint, conflicts[0].Slot)
	assert.Equal(t, 1, conflicts[0].Row)
	assert.Equal(t, Key{SrcPid: parentPid, DstPid: contentPid, Seqno: 1, MessageType: msgType}, conflicts[0].Key)
	assert.Equal(t, core.Time(35), tables[0].Data[0].(*core.IPCPayload).StartTime)
}

func TestCorrelate_PidsSeparateMessages(t *testing.T) {
	parent := fixture.New()
	ipcRow(parent, "IPCOut", 30, contentPid, 1, core.IPCSending, core.IPCEndpoint)
	ipcRow(parent, "IPCOut", 31, 4444, 1, core.IPCSending, core.IPCEndpoint)

	tables, conflicts := Correlate([]Thread{{Pid: parentPid, Markers: parent.Table}})

	assert.Empty(t, conflicts)
	assert.Equal(t, core.Time(30), tables[0].Data[0].(*core.IPCPayload).StartTime)
	assert.Equal(t, core.Time(31), tables[0].Data[1].(*core.IPCPayload).StartTime)
}

func TestSlot_String(t *testing.T) {
	assert.Equal(t, "receiving/transferEnd", SlotRecvTransferEnd.String())
	assert.Equal(t, "unknown", Slot(9).String())
}
