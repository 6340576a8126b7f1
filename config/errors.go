package config

import "errors"

var ErrEmptyNodeId = errors.New("empty node id")
var ErrBadReplicaCount = errors.New("replica count must be at least 1")
var ErrBadRpcBudget = errors.New("write rpc budget must be at least 1")
var ErrBadBackupSeed = errors.New("backup seed needs a server id and address")
var ErrMissingCaCert = errors.New("missing ca cert")
var ErrMissingCert = errors.New("missing cert")
var ErrMissingKey = errors.New("missing key")
