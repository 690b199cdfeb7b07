package moderation

// Action sources.
const (
	SourceAuto     = "auto"     // issued by the abuse engine
	SourceOperator = "operator" // issued through the control plane
)

// ActionEvent is published to moderation.action whenever a warning, kick,
// ban, unban or watch takes effect.
type ActionEvent struct {
	Action  string `json:"action"` // warn | kick | ban | unban | watch
	Source  string `json:"source"`
	ConnID  string `json:"conn_id,omitempty"`
	Address string `json:"address,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Score   int    `json:"score,omitempty"`
	Until   int64  `json:"until,omitempty"` // unix ms, bans only
	Ts      int64  `json:"ts"`
}

// WatchedMessage is published to moderation.watch.<pair_id> for every chat
// message relayed inside a watched pair.
type WatchedMessage struct {
	PairID string `json:"pair_id"`
	From   string `json:"from"` // sender connection id
	Alias  string `json:"alias"`
	Text   string `json:"text"`
	Ts     int64  `json:"ts"`
}
