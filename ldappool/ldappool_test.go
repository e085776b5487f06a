package ldappool

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iland112/pkd-ingest/pkdlog"
)

func TestNewRequiresBindPassword(t *testing.T) {
	os.Unsetenv("TEST_LDAP_BIND_PW")
	_, err := New(Config{
		ReadHosts:       []string{"ldap1:389"},
		WriteHost:       "ldap0:389",
		BindPasswordEnv: "TEST_LDAP_BIND_PW",
	}, pkdlog.Nop())
	assert.Error(t, err)
}

func TestNewRequiresReadHosts(t *testing.T) {
	t.Setenv("TEST_LDAP_BIND_PW2", "secret")
	_, err := New(Config{
		WriteHost:       "ldap0:389",
		BindPasswordEnv: "TEST_LDAP_BIND_PW2",
	}, pkdlog.Nop())
	assert.Error(t, err)
}

func TestNewSucceedsWithPassword(t *testing.T) {
	t.Setenv("TEST_LDAP_BIND_PW3", "secret")
	pool, err := New(Config{
		ReadHosts:       []string{"ldap1:389", "ldap2:389"},
		WriteHost:       "ldap0:389",
		BindPasswordEnv: "TEST_LDAP_BIND_PW3",
	}, pkdlog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, pool)
	assert.Equal(t, "secret", pool.password)
}
