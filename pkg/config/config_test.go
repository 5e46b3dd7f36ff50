/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOSTNAME", "")
	t.Setenv("PORT", "")
	t.Setenv("NFC_TAP_SECRET", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Empty(t, cfg.TapSecret)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.NotNil(t, cfg.Logging)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("HOSTNAME", "0.0.0.0")
	t.Setenv("PORT", "8090")
	t.Setenv("NFC_TAP_SECRET", "s3cret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000, https://pos.example.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8090", cfg.ListenAddr)
	assert.Equal(t, "s3cret", cfg.TapSecret)
	assert.Equal(t, []string{"http://localhost:3000", "https://pos.example.org"}, cfg.AllowedOrigins)
}

func TestLoad_EnvFile(t *testing.T) {
	t.Setenv("NFC_TAP_SECRET", "")
	t.Setenv("PORT", "")

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env.local")

	require.NoError(t, os.WriteFile(envFile,
		[]byte("NFC_TAP_SECRET=from-file\nPORT=4000\n"), 0o600))

	// Clear so the file values are visible; t.Setenv("", ...) above set
	// empty strings which godotenv will not override, so unset them.
	require.NoError(t, os.Unsetenv("NFC_TAP_SECRET"))
	require.NoError(t, os.Unsetenv("PORT"))

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.TapSecret)
	assert.Equal(t, ":4000", cfg.ListenAddr)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	cfg, err := Load("/nonexistent/.env")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, parseOrigins("*"))
	assert.Equal(t, []string{"a", "b"}, parseOrigins(" a , b ,"))
	assert.Empty(t, parseOrigins(" , "))
}
