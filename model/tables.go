package model

// tablePrefix is prepended to every table name. Keep in sync with the
// embedded migrations and the relica adapters' default prefix.
const tablePrefix = "broker_"
