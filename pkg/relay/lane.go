/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package relay

import "strings"

// DefaultLane is the catch-all lane. A client subscribed to it receives
// events from every reader.
const DefaultLane = "default"

// NormalizeLane trims whitespace and maps an empty lane to DefaultLane.
func NormalizeLane(lane string) string {
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return DefaultLane
	}

	return lane
}

// LaneAccepts decides whether an event tagged with eventLane should be
// delivered to a subscriber filtering on clientLane. A "default" client
// accepts everything; otherwise the match is exact and case-sensitive.
func LaneAccepts(eventLane, clientLane string) bool {
	clientLane = NormalizeLane(clientLane)
	if clientLane == DefaultLane {
		return true
	}

	return NormalizeLane(eventLane) == clientLane
}
