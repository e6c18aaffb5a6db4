package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every beaconfence topic.
const TopicPrefix = "beaconfence"

// Region notification kinds carried in the last topic segment.
const (
	RegionKindState  = "state"
	RegionKindRanged = "ranged"
)

// Topics provides builders for beaconfence MQTT topics.
//
//	beaconfence/scanner/command              commands to the scanner
//	beaconfence/scanner/settings             scanner settings (retained)
//	beaconfence/scanner/status               scanner status (retained)
//	beaconfence/scanner/region/{id}/state    inside/outside notifications
//	beaconfence/scanner/region/{id}/ranged   ranging samples
//	beaconfence/event/{id}                   dispatched fence events
//	beaconfence/system/status                service online/offline (retained, LWT)
type Topics struct{}

// ScannerCommand returns the topic the scanner reads commands from.
func (Topics) ScannerCommand() string {
	return TopicPrefix + "/scanner/command"
}

// ScannerSettings returns the retained scanner settings topic.
func (Topics) ScannerSettings() string {
	return TopicPrefix + "/scanner/settings"
}

// ScannerStatus returns the retained topic the scanner reports its status on.
func (Topics) ScannerStatus() string {
	return TopicPrefix + "/scanner/status"
}

// RegionState returns the state notification topic for a region.
//
// Example: beaconfence/scanner/region/front-door/state
func (Topics) RegionState(regionID string) string {
	return fmt.Sprintf("%s/scanner/region/%s/%s", TopicPrefix, regionID, RegionKindState)
}

// RegionRanged returns the ranging notification topic for a region.
func (Topics) RegionRanged(regionID string) string {
	return fmt.Sprintf("%s/scanner/region/%s/%s", TopicPrefix, regionID, RegionKindRanged)
}

// AllRegionStates matches every region state notification.
func (Topics) AllRegionStates() string {
	return TopicPrefix + "/scanner/region/+/" + RegionKindState
}

// AllRegionRanged matches every ranging notification.
func (Topics) AllRegionRanged() string {
	return TopicPrefix + "/scanner/region/+/" + RegionKindRanged
}

// Event returns the topic a dispatched fence event is mirrored to.
func (Topics) Event(regionID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, regionID)
}

// SystemStatus returns the service status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// ParseRegionTopic splits a region notification topic into id and kind.
// ok is false for any other topic.
func ParseRegionTopic(topic string) (regionID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/scanner/region/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	switch parts[1] {
	case RegionKindState, RegionKindRanged:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}
