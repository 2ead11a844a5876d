// Package apontamento submits serial check-ins (apontamentos) to CmControl.
//
// Every operation is a setup.apontamento call tunneled through the MQTT+REST
// proxy: a POST envelope with the bearer token and the Setup as data. The
// Service builds the Setup for the common cases (one serial, linked serials,
// route validation, transport orders, batches) and classifies the answer.
//
// # Business errors
//
// CmControl may answer status 200 while the log describes a rejection, for
// example "ERRO1: serial inexistente". In strict mode the Service turns these,
// non-200 statuses and ok:false into a *protocol.ResponseError matching
// protocol.ErrApontamento. Some codes mean "already done" and are configured
// as ok prefixes (ERRO4 by default). In non-strict mode the raw response is
// returned for the caller to inspect.
package apontamento
