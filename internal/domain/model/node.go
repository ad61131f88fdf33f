package model

import "time"

// NodeMetric summarises one series of node samples.
type NodeMetric struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Peak    float64 `json:"peak"`
}

// NodeSample is a single health report pushed by a node agent.
type NodeSample struct {
	Online      bool    `json:"online"`
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
	BlockHeight uint64  `json:"blockHeight"`
	BlockTime   float64 `json:"blockTime"`
}

// NodeStatus is the derived state of a chain's node.
type NodeStatus struct {
	Chain       string     `json:"chain"`
	Online      bool       `json:"online"`
	CPUUsage    NodeMetric `json:"cpuUsage"`
	MemoryUsage NodeMetric `json:"memoryUsage"`
	BlockHeight uint64     `json:"blockHeight"`
	BlockTime   NodeMetric `json:"blockTime"`
	LastUpdate  time.Time  `json:"lastUpdate"`
}

// NodeStatusReport is the payload of TopicNodeStatus.
type NodeStatusReport struct {
	Nodes   []NodeStatus `json:"nodes"`
	Summary NodeSummary  `json:"summary"`
}

type NodeSummary struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}
