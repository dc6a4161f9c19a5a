// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import (
	"time"

	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
)

// bogota has no DST, so the fixed offset is exact when tzdata is missing.
var bogota = loadDisplayLocation()

func loadDisplayLocation() *time.Location {
	loc, err := time.LoadLocation(constants.DisplayTimeZone)
	if err != nil {
		return time.FixedZone("-05", -5*60*60)
	}

	return loc
}

// DisplayTime renders t the way es-CO locale time strings look in Bogotá,
// e.g. "3:04:05 p. m.".
func DisplayTime(t time.Time) string {
	local := t.In(bogota)

	marker := "a. m."
	if local.Hour() >= 12 {
		marker = "p. m."
	}

	return local.Format("3:04:05") + " " + marker
}
