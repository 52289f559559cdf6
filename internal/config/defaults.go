package config

// DefaultAddr is the default listen address for the WebSocket server.
const DefaultAddr = "0.0.0.0:7070"

// DefaultPort is the port part of DefaultAddr.
const DefaultPort = 7070

// DataDirName is the directory under $HOME that holds host state.
const DataDirName = ".pocketagent"

// DefaultDBName is the settings database file inside the data dir.
const DefaultDBName = "pocketagent.db"

// DefaultHostName is used when the system hostname is unavailable.
const DefaultHostName = "pocketagent"
