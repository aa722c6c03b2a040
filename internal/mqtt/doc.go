// Package mqtt mirrors conversation budgets onto an MQTT broker so
// dashboards can follow them without polling the API.
//
// After every saved turn the publisher writes a retained JSON snapshot
// of the thread's budget to azaman/<device>/threads/<thread>/budget.
// It also announces a small set of Home Assistant diagnostic sensors
// (version, tokens today, last turn) through MQTT discovery so the
// service shows up as a device.
//
// Connection management uses Eclipse Paho v2's [autopaho] package. On
// every (re-)connect the publisher re-sends discovery payloads and an
// "online" birth message; a will message flips the availability topic
// to "offline" on unexpected disconnects.
package mqtt
