// Package metrics accumulates per-session counters and produces the
// finalized session summary.
package metrics

import (
	"math"
	"slices"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

// Engagement weights. They sum to 1.
const (
	weightRecall      = 0.4
	weightConsistency = 0.2
	weightTangents    = 0.2
	weightCompletion  = 0.2
)

// Outcome is a resolved point as seen by the collector.
type Outcome struct {
	PointID    string       `json:"point_id"`
	Success    bool         `json:"success"`
	Confidence float64      `json:"confidence"`
	Rating     model.Rating `json:"rating"`
	StartIndex int          `json:"start_index"`
	EndIndex   int          `json:"end_index"`
	Forced     bool         `json:"forced"`
}

// Collector is a serialisable value. Every Record method returns an updated
// copy and leaves the receiver untouched.
type Collector struct {
	SessionID         string          `json:"session_id"`
	StartedAt         time.Time       `json:"started_at"`
	UserMessages      int             `json:"user_messages"`
	AssistantMessages int             `json:"assistant_messages"`
	SystemMessages    int             `json:"system_messages"`
	MessageTokens     int             `json:"message_tokens"`
	InputTokens       int             `json:"input_tokens"`
	OutputTokens      int             `json:"output_tokens"`
	ResponseTimes     []time.Duration `json:"response_times_ns,omitempty"`
	Outcomes          []Outcome       `json:"outcomes,omitempty"`
	Tangents          int             `json:"tangents"`
	TangentsReturned  int             `json:"tangents_returned"`
}

// Start returns a fresh collector for sessionID.
func Start(sessionID string, now time.Time) Collector {
	return Collector{SessionID: sessionID, StartedAt: now}
}

// RecordMessage counts a persisted message. responseTime is only kept for
// assistant messages.
func (c Collector) RecordMessage(role model.MessageRole, tokens int, responseTime time.Duration) Collector {
	out := c.clone()
	out.MessageTokens += max(tokens, 0)
	switch role {
	case model.RoleUser:
		out.UserMessages++
	case model.RoleAssistant:
		out.AssistantMessages++
		if responseTime > 0 {
			out.ResponseTimes = append(out.ResponseTimes, responseTime)
		}
	default:
		out.SystemMessages++
	}
	return out
}

// RecordUsage adds model token usage.
func (c Collector) RecordUsage(input, output int) Collector {
	out := c.clone()
	out.InputTokens += max(input, 0)
	out.OutputTokens += max(output, 0)
	return out
}

// RecordRecallOutcome records a resolved point. A second outcome for the
// same point is ignored.
func (c Collector) RecordRecallOutcome(o Outcome) Collector {
	if c.HasOutcome(o.PointID) {
		return c
	}
	out := c.clone()
	out.Outcomes = append(out.Outcomes, o)
	return out
}

// HasOutcome reports whether pointID has been recorded.
func (c Collector) HasOutcome(pointID string) bool {
	return slices.ContainsFunc(c.Outcomes, func(o Outcome) bool { return o.PointID == pointID })
}

// RecordTangent counts a finished tangent.
func (c Collector) RecordTangent(returned bool) Collector {
	out := c.clone()
	out.Tangents++
	if returned {
		out.TangentsReturned++
	}
	return out
}

// Finalize computes the session summary.
func (c Collector) Finalize(now time.Time, totalPoints int, price Price) model.SessionMetricsSummary {
	var recalled int
	var confSum float64
	for _, o := range c.Outcomes {
		if o.Success {
			recalled++
		}
		confSum += o.Confidence
	}

	s := model.SessionMetricsSummary{
		SessionID:         c.SessionID,
		StartedAt:         c.StartedAt,
		EndedAt:           now,
		Duration:          now.Sub(c.StartedAt),
		TotalMessages:     c.UserMessages + c.AssistantMessages + c.SystemMessages,
		UserMessages:      c.UserMessages,
		AssistantMessages: c.AssistantMessages,
		RecalledCount:     recalled,
		TotalPoints:       totalPoints,
		InputTokens:       c.InputTokens,
		OutputTokens:      c.OutputTokens,
		EstimatedCostUSD:  price.Cost(c.InputTokens, c.OutputTokens),
		TangentCount:      c.Tangents,
		TangentsReturned:  c.TangentsReturned,
		AvgResponseTime:   mean(c.ResponseTimes),
	}
	if s.Duration < 0 {
		s.Duration = 0
	}
	if totalPoints > 0 {
		s.RecallRate = ratio(recalled, totalPoints)
	}
	if len(c.Outcomes) > 0 {
		s.AvgConfidence = confSum / float64(len(c.Outcomes))
	}
	s.EngagementScore = c.engagement(totalPoints)
	return s
}

func (c Collector) engagement(totalPoints int) float64 {
	var recall, completion float64
	if totalPoints > 0 {
		var ok int
		for _, o := range c.Outcomes {
			if o.Success {
				ok++
			}
		}
		recall = ratio(ok, totalPoints)
		completion = ratio(len(c.Outcomes), totalPoints)
	}

	tangents := 1.0
	if c.Tangents > 0 {
		tangents = ratio(c.TangentsReturned, c.Tangents)
	}

	score := 100 * (weightRecall*recall +
		weightConsistency*consistency(c.ResponseTimes) +
		weightTangents*tangents +
		weightCompletion*completion)
	return math.Round(score*100) / 100
}

// consistency is 1 - min(1, CV) of the samples, or 1 with fewer than two.
func consistency(samples []time.Duration) float64 {
	if len(samples) < 2 {
		return 1
	}
	m := float64(mean(samples))
	if m == 0 {
		return 1
	}
	var sq float64
	for _, d := range samples {
		diff := float64(d) - m
		sq += diff * diff
	}
	cv := math.Sqrt(sq/float64(len(samples))) / m
	return 1 - math.Min(1, cv)
}

func mean(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return sum / time.Duration(len(samples))
}

func ratio(n, d int) float64 {
	return math.Min(1, float64(n)/float64(d))
}

func (c Collector) clone() Collector {
	c.ResponseTimes = slices.Clone(c.ResponseTimes)
	c.Outcomes = slices.Clone(c.Outcomes)
	return c
}
