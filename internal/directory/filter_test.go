package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		ids  []string
		want string
	}{
		{
			name: "all users",
			kind: KindUser,
			want: "(&(objectClass=user)(!(objectClass=group))(!(objectClass=computer))(sAMAccountName=*))",
		},
		{
			name: "one user",
			kind: KindUser,
			ids:  []string{"alice"},
			want: "(&(objectClass=user)(!(objectClass=group))(!(objectClass=computer))(sAMAccountName=alice))",
		},
		{
			name: "several groups in order with duplicates kept",
			kind: KindGroup,
			ids:  []string{"g2", "g1", "g2"},
			want: "(&(objectClass=group)(!(objectClass=user))(!(objectClass=computer))" +
				"(|(sAMAccountName=g2)(sAMAccountName=g1)(sAMAccountName=g2)))",
		},
		{
			name: "one computer",
			kind: KindComputer,
			ids:  []string{"PC1$"},
			want: "(&(objectClass=computer)(sAMAccountName=PC1$))",
		},
		{
			name: "all computers",
			kind: KindComputer,
			want: "(&(objectClass=computer)(sAMAccountName=*))",
		},
		{
			name: "wildcard kept",
			kind: KindUser,
			ids:  []string{"svc-*"},
			want: "(&(objectClass=user)(!(objectClass=group))(!(objectClass=computer))(sAMAccountName=svc-*))",
		},
		{
			name: "lone wildcard",
			kind: KindComputer,
			ids:  []string{"*"},
			want: "(&(objectClass=computer)(sAMAccountName=*))",
		},
		{
			name: "metacharacters escaped",
			kind: KindUser,
			ids:  []string{"a)(objectClass=*"},
			want: "(&(objectClass=user)(!(objectClass=group))(!(objectClass=computer))(sAMAccountName=a\\29\\28objectClass=*))",
		},
		{
			name: "backslash escaped",
			kind: KindGroup,
			ids:  []string{`dom\grp`},
			want: `(&(objectClass=group)(!(objectClass=user))(!(objectClass=computer))(sAMAccountName=dom\5cgrp))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildFilter(tt.kind, tt.ids...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildFilter_Invalid(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		ids  []string
	}{
		{name: "empty identifier", kind: KindUser, ids: []string{""}},
		{name: "blank identifier among several", kind: KindGroup, ids: []string{"g1", "  "}},
		{name: "NUL byte", kind: KindComputer, ids: []string{"pc\x00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildFilter(tt.kind, tt.ids...)
			assert.ErrorIs(t, err, ErrInvalidIdentifier)
		})
	}

	_, err := BuildFilter(Kind(42), "x")
	assert.Error(t, err)
}

func TestFilterSpec(t *testing.T) {
	spec := FilterSpec{Kind: KindUser, Identifiers: []string{"alice", "bob"}}

	got, err := spec.Filter()
	require.NoError(t, err)
	assert.Equal(t,
		"(&(objectClass=user)(!(objectClass=group))(!(objectClass=computer))(|(sAMAccountName=alice)(sAMAccountName=bob)))",
		got)
}

func TestDNEquality(t *testing.T) {
	assert.Equal(t,
		`(distinguishedName=CN=Smith\5c, John,OU=Eng,DC=example,DC=com)`,
		dnEquality("distinguishedName", `CN=Smith\, John,OU=Eng,DC=example,DC=com`))
	assert.Equal(t,
		`(distinguishedName=CN=\28x\29\2a,DC=example,DC=com)`,
		dnEquality("distinguishedName", `CN=(x)*,DC=example,DC=com`))
}
