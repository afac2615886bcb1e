// SPDX-License-Identifier: Apache-2.0

package repository

import "time"

// nullableTime lets a zero time fall through to the column default.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
