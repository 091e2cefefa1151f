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
package auth

import (
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/crucible/pkg/fault"
)

func TestParseToken_BareToken(t *testing.T) {
	keyID := uuid.New()
	keyIDHex := hex.EncodeToString(keyID[:])

	id, secret, err := ParseToken("ak_" + keyIDHex + "_s3cret")
	require.NoError(t, err)
	assert.Equal(t, keyIDHex, id)
	assert.Equal(t, "s3cret", secret)
}

func TestParseToken_ApiKeyScheme(t *testing.T) {
	id, secret, err := ParseToken("ApiKey ak_deadbeef_topsecret")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", id)
	assert.Equal(t, "topsecret", secret)
}

func TestParseToken_SecretMayContainUnderscores(t *testing.T) {
	_, secret, err := ParseToken("ak_deadbeef_part_one_two")
	require.NoError(t, err)
	assert.Equal(t, "part_one_two", secret)
}

func TestParseToken_Rejections(t *testing.T) {
	tests := []string{
		"",
		"Bearer abc",
		"ak_onlyone",
		"xk_deadbeef_secret",
		"ApiKey ",
	}
	for _, header := range tests {
		_, _, err := ParseToken(header)
		require.Error(t, err, "header %q", header)
		assert.Equal(t, fault.Unauthorized, fault.KindOf(err))
	}
}

func TestHashVerifySecret_RoundTrip(t *testing.T) {
	hash, salt, err := HashSecret("hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEmpty(t, salt)

	assert.True(t, VerifySecret("hunter2", hash, salt))
	assert.False(t, VerifySecret("hunter3", hash, salt))
}

func TestHashSecret_SaltVaries(t *testing.T) {
	hash1, salt1, err := HashSecret("same")
	require.NoError(t, err)
	hash2, salt2, err := HashSecret("same")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, hash1, hash2)
}

func TestVerifySecret_GarbageStoredValues(t *testing.T) {
	assert.False(t, VerifySecret("x", "not-base64!", "also-not!"))
	assert.False(t, VerifySecret("x", "", ""))
}
