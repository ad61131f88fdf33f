package model

import "time"

// Audience selects which subscribers receive a message.
type Audience int

const (
	// AudiencePublic reaches every connected subscriber.
	AudiencePublic Audience = iota
	// AudienceAuthenticated reaches only subscribers that completed the token handshake.
	AudienceAuthenticated
)

func (a Audience) String() string {
	if a == AudiencePublic {
		return "public"
	}
	return "authenticated"
}

// Topic is the event name a subscriber listens for.
type Topic string

const (
	TopicNewTrade      Topic = "new_trade"
	TopicNewWarning    Topic = "new_warning"
	TopicProfitUpdate  Topic = "profit_update"
	TopicTagProfits    Topic = "tag_profits_changed"
	TopicTokenProfits  Topic = "token_profits_changed"
	TopicWelcomeStats  Topic = "welcome_stats_changed"
	TopicNodeStatus    Topic = "node_status_update"
	TopicConnectionAck Topic = "welcome"
)

// Message is one unit of fanout. Chain is set for payloads that belong to a
// single chain.
type Message struct {
	Topic     Topic     `json:"type"`
	Audience  Audience  `json:"-"`
	Chain     string    `json:"-"`
	Payload   any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// PayloadChain returns the chain a payload belongs to, or "" for cross-chain payloads.
func PayloadChain(payload any) string {
	switch p := payload.(type) {
	case Trade:
		return p.Chain
	case Warning:
		return p.Chain
	case ChainProfitSummary:
		return p.Chain
	case ChainTagProfits:
		return p.Chain
	case ChainTokenProfits:
		return p.Chain
	}
	return ""
}

// ChainTagProfits is the payload of TopicTagProfits.
type ChainTagProfits struct {
	Chain      string           `json:"chain"`
	TagProfits []TagProfitEntry `json:"tagProfits"`
}

// ChainTokenProfits is the payload of TopicTokenProfits.
type ChainTokenProfits struct {
	Chain        string             `json:"chain"`
	TokenProfits []TokenProfitEntry `json:"tokenProfits"`
}
