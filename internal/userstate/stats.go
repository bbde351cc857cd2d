package userstate

import (
	"time"

	"github.com/agentia/replyflow/internal/domain/model"
)

// Stats are derived on demand from cache + history, deduplicated by message
// id; the cache keeps terminal messages around until a refresh culls them, so
// naive addition would double count.
func (s *State) Stats() model.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	month := time.Now().Format("2006-01")

	var st model.Stats
	seen := make(map[string]bool)

	consider := func(em *model.Email, when string) {
		if seen[em.ID] {
			return
		}
		seen[em.ID] = true
		if len(when) >= 10 && when[:10] == today {
			st.TodayEmails++
		}
		switch em.Status {
		case model.StatusProcessed, model.StatusSent, model.StatusSkipped:
			st.Processed++
			if len(when) >= 7 && when[:7] == month {
				st.ThisMonthProcessed++
			}
		case model.StatusFailed:
			st.Failed++
		}
		if em.Status == model.StatusSent {
			st.Sent++
		}
	}

	for i := range s.Cache {
		if s.Cache[i].Status == model.StatusPending {
			st.Pending++
		}
		consider(&s.Cache[i], s.Cache[i].ReceivedAt)
	}
	for i := range s.History {
		consider(&s.History[i].Email, s.History[i].ProcessedTime)
	}

	// A send not yet flushed may outrun the recount.
	if s.SentCount > st.Sent {
		st.Sent = s.SentCount
	}
	return st
}

// CategoryStats counts today's messages per category.
func (s *State) CategoryStats() model.CategoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	var cs model.CategoryStats
	seen := make(map[string]bool)

	add := func(em *model.Email, when string) {
		if seen[em.ID] || len(when) < 10 || when[:10] != today {
			return
		}
		seen[em.ID] = true
		switch em.Category {
		case model.CategoryProductEnquiry:
			cs.ProductEnquiry++
		case model.CategoryCustomerComplaint:
			cs.CustomerComplaint++
		case model.CategoryCustomerFeedback:
			cs.CustomerFeedback++
		case model.CategoryUnrelated:
			cs.Unrelated++
		}
	}
	for i := range s.Cache {
		add(&s.Cache[i], s.Cache[i].ReceivedAt)
	}
	for i := range s.History {
		add(&s.History[i].Email, s.History[i].ProcessedTime)
	}
	return cs
}

// Trend returns per-day received/processed counts over the last days.
func (s *State) Trend(days int) []model.TrendPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	points := make([]model.TrendPoint, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := time.Now().AddDate(0, 0, i-days+1).Format("2006-01-02")
		points[i] = model.TrendPoint{Date: date}
		index[date] = i
	}

	seen := make(map[string]bool)
	add := func(em *model.Email, received, processed string) {
		if seen[em.ID] {
			return
		}
		seen[em.ID] = true
		if len(received) >= 10 {
			if i, ok := index[received[:10]]; ok {
				points[i].Received++
			}
		}
		if processed != "" && em.Status.Terminal() && len(processed) >= 10 {
			if i, ok := index[processed[:10]]; ok {
				points[i].Processed++
			}
		}
	}
	for i := range s.Cache {
		add(&s.Cache[i], s.Cache[i].ReceivedAt, "")
	}
	for i := range s.History {
		add(&s.History[i].Email, s.History[i].ReceivedAt, s.History[i].ProcessedTime)
	}
	return points
}
