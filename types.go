package main

type Notification struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

type TwiddleEventKind string

const (
	EventWindow         TwiddleEventKind = "window"
	EventInitialized    TwiddleEventKind = "initialized"
	EventAcceptIncrease TwiddleEventKind = "accept_increase"
	EventRejectIncrease TwiddleEventKind = "reject_increase"
	EventAcceptDecrease TwiddleEventKind = "accept_decrease"
	EventRejectDecrease TwiddleEventKind = "reject_decrease"
	EventNextCoef       TwiddleEventKind = "next_coef"
)

// TwiddleEvent is a snapshot of the search taken when something happened.
type TwiddleEvent struct {
	Kind    TwiddleEventKind
	Index   int
	Coefs   [coefCount]float64
	Steps   [coefCount]float64
	MSE     float64
	BestMSE float64
	HasBest bool
}

type telemetry struct {
	cte           float64
	speed         float64
	steeringAngle float64
}

type command struct {
	steering float64
	throttle float64
	reset    bool
}
