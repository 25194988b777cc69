package spam

// MatchingChannels returns the distinct channel IDs, in first-seen order,
// of the entries whose hash equals target.
func MatchingChannels(entries []Entry, target Hash) []string {
	seen := make(map[string]struct{})
	var channels []string
	for _, entry := range entries {
		if entry.Hash != target {
			continue
		}
		if _, ok := seen[entry.ChannelID]; ok {
			continue
		}
		seen[entry.ChannelID] = struct{}{}
		channels = append(channels, entry.ChannelID)
	}
	return channels
}

// IsSpam reports whether content with the target hash was posted in at
// least threshold distinct channels.
func IsSpam(entries []Entry, target Hash, threshold int) bool {
	return len(MatchingChannels(entries, target)) >= threshold
}
