// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small file helpers shared by config and the CLI.
//
// Write files atomically to prevent data loss:
//
//	err := util.AtomicWriteFile(path, data, 0o600)
package util
