package redisbroker

import (
	"fmt"
	"strconv"
)

// Key layout:
// - channelKey(name):  pub/sub channel for broadcast traffic
// - membersKey(name):  ZSet<memberKey, expireAtUnix> (score = logical expiry)
// - payloadsKey(name): Hash<memberKey -> tracked presence payload>

func channelKey(name string) string  { return fmt.Sprintf("collab:channel:{%s}", name) }
func membersKey(name string) string  { return fmt.Sprintf("collab:presence:{%s}", name) }
func payloadsKey(name string) string { return fmt.Sprintf("collab:presence:payloads:{%s}", name) }

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }
