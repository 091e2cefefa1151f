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
package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, Internal, KindOf(nil))
}

func TestKindOf_WalksWrapChain(t *testing.T) {
	inner := New(NotFound, "template missing")
	wrapped := fmt.Errorf("resolving ref: %w", inner)

	assert.Equal(t, NotFound, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, NotFound))
	assert.False(t, IsKind(wrapped, Conflict))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(BadRequest, "ignored", nil))
}

func TestWrap_MessageIncludesCause(t *testing.T) {
	err := Wrap(StateError, "cannot end run", errors.New("already terminal"))
	require.Error(t, err)
	assert.Equal(t, "cannot end run: already terminal", err.Error())
	assert.Equal(t, StateError, KindOf(err))
}

func TestNewf_Formats(t *testing.T) {
	err := Newf(Conflict, "location %s claimed by %d templates", "seed", 2)
	assert.Equal(t, "location seed claimed by 2 templates", err.Error())
}

func TestErrorIs_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(Unauthorized, "no access"))
	assert.True(t, errors.Is(err, &Error{Kind: Unauthorized}))
	assert.False(t, errors.Is(err, &Error{Kind: NotFound}))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "not_found", NotFound.String())
	assert.Equal(t, "state_error", StateError.String())
	assert.Equal(t, "internal", Internal.String())
}
