// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"encoding/json"
	"fmt"
)

var (
	Version = "0.0.0-dev"
	Commit  = ""
	Date    = ""
)

type buildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func String() string {
	return fmt.Sprintf("Version: %v\nCommit: %v\nBuild date: %s\n", Version, Commit, Date)
}

func Print() {
	fmt.Print(String())
}

func JSON() ([]byte, error) {
	return json.Marshal(buildInfo{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	})
}
