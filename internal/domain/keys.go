package domain

// KeyPrefix namespaces every key the service writes to the key-value backend.
const KeyPrefix = "sightdex:"
