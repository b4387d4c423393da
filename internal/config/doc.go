// Package config loads collab.json, the server's configuration file.
//
// Every field is optional; unset fields take defaults that reproduce a
// single-node deployment against a local Redis. Durations are Go duration
// strings and are checked by Validate.
//
// # Configuration File Structure
//
//	{
//	  "address": ":8080",
//	  "log": {"level": "info", "format": "json"},
//	  "redis": {"addr": "redis:6379"},
//	  "lock": {"ttl": "60s", "keyPrefix": "lock:"},
//	  "relay": {"backoffMin": "250ms", "backoffMax": "30s"},
//	  "websocket": {"maxMessageSize": 4194304, "heartbeatInterval": "30s"},
//	  "channels": [
//	    {"name": "editor", "path": "/collaboration", "payload": "binary", "delivery": "local"},
//	    {"name": "chat", "path": "/intelligent-chat", "topic": "intelligent_chat_channel",
//	     "payload": "text", "delivery": "relay", "assistant": true}
//	  ],
//	  "docstore": {"backend": "mongo", "mongo": {"uri": "mongodb://mongo:27017"}},
//	  "assistant": {"url": "http://assistant:6000", "timeout": "30s"}
//	}
//
// The environment variables COLLAB_ADDRESS, COLLAB_REDIS_ADDR,
// COLLAB_REDIS_PASSWORD, COLLAB_MONGO_URI and COLLAB_ASSISTANT_URL override
// the file; see ApplyEnv.
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.ApplyEnv(os.LookupEnv)
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
