package tdsmodels

import "time"

type IngestorConfig struct {
	// MQTT
	BrokerURL      string
	BrokerUser     string
	BrokerPass     string
	UseTLS         bool
	CACertPath     string
	Topic          string
	ClientID       string
	QoS            byte
	KeepAlive      time.Duration
	PingTimeout    time.Duration
	ConnectTimeout time.Duration
	ErrorTopic     string // empty disables error feedback

	// Store
	InsertTimeout time.Duration
}
