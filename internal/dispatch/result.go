package dispatch

import "github.com/kursadbilgin/alert-engine/internal/domain"

// ChannelStats counts channel-level attempt outcomes. Channel totals can
// exceed recipient totals because one recipient may use multiple channels.
type ChannelStats struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// BatchResult is the aggregate outcome of one dispatch or retry run.
// Recipient-level counts sum to TotalRecipients: a recipient is successful if
// at least one channel attempt succeeded.
type BatchResult struct {
	TotalRecipients int                            `json:"totalRecipients"`
	SuccessCount    int                            `json:"successCount"`
	FailureCount    int                            `json:"failureCount"`
	ByChannel       map[domain.Channel]ChannelStats `json:"byChannel"`
}

func newBatchResult(totalRecipients int) BatchResult {
	return BatchResult{
		TotalRecipients: totalRecipients,
		ByChannel:       make(map[domain.Channel]ChannelStats),
	}
}

func (r *BatchResult) recordChannel(ch domain.Channel, success bool) {
	if r.ByChannel == nil {
		r.ByChannel = make(map[domain.Channel]ChannelStats)
	}
	stats := r.ByChannel[ch]
	if success {
		stats.Sent++
	} else {
		stats.Failed++
	}
	r.ByChannel[ch] = stats
}
