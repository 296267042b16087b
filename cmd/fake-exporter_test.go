// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"testing"

	"flowmux/common/reporter"
)

func TestFakeExporterStart(t *testing.T) {
	r := reporter.NewMock(t)
	config := FakeExporterConfiguration{}
	config.Reset()
	config.FakeExporter.Target = "127.0.0.1:4739"
	if err := fakeExporterStart(r, config, true); err != nil {
		t.Fatalf("fakeExporterStart() error:\n%+v", err)
	}
}
