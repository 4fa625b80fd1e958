package domain

import "time"

// Signal is an hourly trading signal from the advisory feed. Pure data, no
// state; the engine never acts on signals automatically.
type Signal struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol"`
	OptionType   OptionType `json:"optionType"`
	StrikePrice  float64    `json:"strikePrice"`
	Action       OrderAction `json:"signal"`
	CurrentPrice float64    `json:"currentPrice"`
	TargetPrice  float64    `json:"targetPrice"`
	StopLoss     float64    `json:"stopLoss"`
	Confidence   int        `json:"confidence"`
	Reason       string     `json:"reason"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Recommendation is a daily trade idea with a full analysis payload.
type Recommendation struct {
	ID              string      `json:"id"`
	Symbol          string      `json:"symbol"`
	Action          OrderAction `json:"action"`
	OptionType      OptionType  `json:"optionType"`
	StrikePrice     float64     `json:"strikePrice"`
	ExpiryDate      string      `json:"expiryDate"`
	EntryPrice      float64     `json:"entryPrice"`
	TargetPrice     float64     `json:"targetPrice"`
	StopLoss        float64     `json:"stopLoss"`
	RiskRewardRatio string      `json:"riskRewardRatio"`
	Reasoning       string      `json:"reasoning"`
	Rating          int         `json:"rating"`
}
