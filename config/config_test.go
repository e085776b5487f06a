package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"ldap1:389", "ldap2:389"}, splitCSV("ldap1:389, ldap2:389"))
	assert.Nil(t, splitCSV(""))
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	cfg := &Config{}
	err := cfg.validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "db.host")
}

func TestValidatePassesWithRequiredFields(t *testing.T) {
	cfg := &Config{
		Database: Database{Host: "db", Name: "pkd", User: "pkd"},
		LDAP: LDAP{
			ReadHosts: []string{"ldap1:389"},
			WriteHost: "ldap1:389",
			BindDN:    "cn=admin,dc=pkd",
			BaseDN:    "dc=pkd",
		},
		Auth: Auth{Enabled: false},
	}
	assert.NoError(t, cfg.validate())
}
