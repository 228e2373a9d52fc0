package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransferStatus_String(t *testing.T) {
	tests := []struct {
		status TransferStatus
		want   string
	}{
		{TransferStatusSuccess, "success"},
		{TransferStatusError, "error"},
		{TransferStatusTimeout, "timeout"},
		{TransferStatusInvalid, "invalid"},
		{TransferStatusDiscarded, "discarded"},
		{TransferStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("TransferStatus.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want TransferStatus
	}{
		{nil, TransferStatusSuccess},
		{ErrTimeout, TransferStatusTimeout},
		{fmt.Errorf("receive: %w", ErrTimeout), TransferStatusTimeout},
		{ErrBadSentinel, TransferStatusInvalid},
		{ErrShortPacket, TransferStatusInvalid},
		{ErrClosed, TransferStatusError},
	}

	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrTimeout,
		ErrShortPacket,
		ErrBadSentinel,
		ErrNotSelected,
		ErrLinkFailure,
		ErrFraming,
		ErrClosed,
		ErrNotRunning,
		ErrAlreadyRunning,
		ErrStorageUnavailable,
		ErrInvalidParameter,
		ErrBufferTooSmall,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestCounters(t *testing.T) {
	var c Counters

	c.RecordTransfer(nil)
	c.RecordTransfer(ErrTimeout)
	c.RecordTransfer(ErrBadSentinel)
	c.RecordTransfer(ErrShortPacket)
	c.RecordTransfer(ErrClosed)
	c.ParseErrors.Add(2)

	snap := c.Snapshot()
	if snap.Exchanges != 1 {
		t.Errorf("Exchanges = %d, want 1", snap.Exchanges)
	}
	if snap.LinkTimeouts != 1 {
		t.Errorf("LinkTimeouts = %d, want 1", snap.LinkTimeouts)
	}
	if snap.DroppedPackets != 2 {
		t.Errorf("DroppedPackets = %d, want 2", snap.DroppedPackets)
	}
	if snap.ParseErrors != 2 {
		t.Errorf("ParseErrors = %d, want 2", snap.ParseErrors)
	}
}
