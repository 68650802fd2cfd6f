// Package directory queries Active Directory users, groups and computers.
//
// BuildFilter turns a kind and a list of sAMAccountNames into an LDAP
// filter. NewObjects converts search results into Objects, merging
// attributes whose names differ only in case. An Expander replaces
// memberOf and member with their transitive closure using the
// LDAP_MATCHING_RULE_IN_CHAIN rule, and a Resolver maps group DNs to names
// with a short-lived cache. Grep and Serialize filter and print the results.
//
// Directory ties these together over any Searcher, normally an ldap.Client.
package directory
