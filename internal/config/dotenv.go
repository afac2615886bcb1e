// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadDotenv populates the process environment from the given files, or from
// ./.env when none are given. Variables already set are left untouched.
// It reports whether any file was found.
func LoadDotenv(files ...string) (bool, error) {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
