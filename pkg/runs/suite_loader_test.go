// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package runs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestIsSuiteFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"orders.yaml", true},
		{"orders.yml", true},
		{"/abs/path/orders.yaml", true},
		{"orders.json", false},
		{".hidden.yaml", false},
		{"orders.yaml~", false},
		{"README.md", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isSuiteFile(tt.name), tt.name)
	}
}

func TestSuiteDocument_ParsesFullShape(t *testing.T) {
	raw := []byte(`
name: order-lifecycle
description: Order handling expectations
visibility: private
owner: system
tests:
  - name: ship order
    prompt: "Ship order 42"
    type: actionEval
    templateRef: shop/seed
    expectedOutput:
      version: "0.1"
      assertions:
        - diff_type: changed
          entity: orders
          expected_changes:
            status: shipped
`)
	var doc suiteDocument
	require.NoError(t, yaml.Unmarshal(raw, &doc))

	assert.Equal(t, "order-lifecycle", doc.Name)
	assert.Equal(t, "private", doc.Visibility)
	require.Len(t, doc.Tests, 1)
	assert.Equal(t, "ship order", doc.Tests[0].Name)
	assert.Equal(t, "actionEval", doc.Tests[0].Type)
	assert.Equal(t, "shop/seed", doc.Tests[0].TemplateRef)
	assert.Contains(t, doc.Tests[0].ExpectedOutput, "assertions")
}
