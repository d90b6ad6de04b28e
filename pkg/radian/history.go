package radian

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	historyOffset    = 70
	historyMinLength = 118
	MaxHistoryMonths = 13

	maxMonthlyDelta = 500_000_000
	maxHistoryLead  = 1_000_000
)

var ErrInvalidHistory = errors.New("radian: invalid history")

func extractHistory(frame []byte) []uint32 {
	if len(frame) < historyMinLength {
		return nil
	}
	var history []uint32
	for offset := historyOffset; offset+3 < len(frame) && len(history) < MaxHistoryMonths; offset += 4 {
		history = append(history, binary.LittleEndian.Uint32(frame[offset:]))
	}
	return history
}

// ValidateHistory rejects histories that cannot come from a working meter: values
// going backwards, a month with an absurd consumption, or a last month ahead of the
// current index.
func ValidateHistory(history []uint32, volume uint32) error {
	if len(history) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidHistory)
	}
	for i := 1; i < len(history); i++ {
		if history[i] < history[i-1] {
			return fmt.Errorf("%w: month %d decreases", ErrInvalidHistory, i)
		}
		if history[i]-history[i-1] > maxMonthlyDelta {
			return fmt.Errorf("%w: month %d delta %d", ErrInvalidHistory, i, history[i]-history[i-1])
		}
	}
	if uint64(history[len(history)-1]) > uint64(volume)+maxHistoryLead {
		return fmt.Errorf("%w: newest %d ahead of volume %d", ErrInvalidHistory, history[len(history)-1], volume)
	}
	return nil
}

type HistoryStats struct {
	History           []uint32 `json:"history"`
	MonthlyUsage      []uint32 `json:"monthly_usage"`
	CurrentMonthUsage uint32   `json:"current_month_usage"`
	MonthsAvailable   int      `json:"months_available"`
	TotalUsage        uint32   `json:"total_usage"`
	AverageUsage      uint32   `json:"average_monthly_usage"`
}

// ComputeHistoryStats derives monthly consumption from the leading non-zero history
// entries. The first month has no baseline and counts as zero.
func ComputeHistoryStats(history []uint32, volume uint32) HistoryStats {
	months := 0
	for months < len(history) && history[months] != 0 {
		months++
	}
	stats := HistoryStats{
		History:         append([]uint32{}, history[:months]...),
		MonthlyUsage:    make([]uint32, months),
		MonthsAvailable: months,
	}
	if months == 0 {
		return stats
	}
	var total uint32
	for i := 1; i < months; i++ {
		stats.MonthlyUsage[i] = usage(history[i], history[i-1])
		total += stats.MonthlyUsage[i]
	}
	stats.CurrentMonthUsage = usage(volume, history[months-1])
	stats.TotalUsage = total + stats.CurrentMonthUsage
	stats.AverageUsage = stats.TotalUsage / uint32(months+1)
	return stats
}

func usage(current, previous uint32) uint32 {
	if current < previous {
		return 0
	}
	return current - previous
}

func (s HistoryStats) JSON() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}
