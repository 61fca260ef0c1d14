// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import "github.com/sekolahdesk/sekolahdesk/internal/dbinterface"

type dbQuerier = dbinterface.Querier
