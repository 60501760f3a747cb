package pipeline

import "github.com/JakeFAU/orderscraper/internal/scraper"

// Counts tallies record outcomes.
type Counts struct {
	Discovered        int `json:"discovered"`
	Created           int `json:"created"`
	SkippedExisting   int `json:"skipped_existing"`
	SkippedIncomplete int `json:"skipped_incomplete"`
	Failed            int `json:"failed"`
	DeliveryFailures  int `json:"delivery_failures"`
}

func (c *Counts) count(o scraper.Outcome) {
	switch o {
	case scraper.OutcomeCreated:
		c.Created++
	case scraper.OutcomeSkippedExisting:
		c.SkippedExisting++
	case scraper.OutcomeSkippedIncomplete:
		c.SkippedIncomplete++
	}
}

func (c *Counts) merge(o Counts) {
	c.Discovered += o.Discovered
	c.Created += o.Created
	c.SkippedExisting += o.SkippedExisting
	c.SkippedIncomplete += o.SkippedIncomplete
	c.Failed += o.Failed
	c.DeliveryFailures += o.DeliveryFailures
}

// YearSummary is the outcome of one year's session.
type YearSummary struct {
	Year int `json:"year"`
	Counts
}

// Summary is the outcome of a whole run.
type Summary struct {
	RunID   string        `json:"run_id"`
	Years   []YearSummary `json:"years"`
	Total   Counts        `json:"total"`
	Aborted bool          `json:"aborted"`
}

func (s *Summary) add(ys YearSummary) {
	s.Years = append(s.Years, ys)
	s.Total.merge(ys.Counts)
}

// Failed reports whether the run should end with a non-zero exit status.
func (s Summary) Failed() bool {
	return s.Aborted || s.Total.Failed > 0
}
