package relay

var extraUDP = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.demonii.com:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://exodus.desync.com:6969/announce",
	"udp://tracker.theoks.net:6969/announce",
}

var extraHTTP = []string{
	"https://tracker.tamersunion.org:443/announce",
	"http://tracker.bt4g.com:2095/announce",
}

// TrackerTiers returns announce tiers to add on top of whatever the magnet
// itself carries, filtered by mode (all|http|udp|none).
func TrackerTiers(mode string) [][]string {
	var tier []string
	switch mode {
	case "http":
		tier = append(tier, extraHTTP...)
	case "udp":
		tier = append(tier, extraUDP...)
	case "none":
	default:
		tier = append(tier, extraUDP...)
		tier = append(tier, extraHTTP...)
	}
	if len(tier) == 0 {
		return nil
	}
	return [][]string{tier}
}
