package redis

// DefaultKeyPrefix namespaces all queue keys.
const DefaultKeyPrefix = "pillbox:queue:"

// immediateKey is the List of entries ready for delivery (RPUSH/LPOP).
func (s *Store) immediateKey() string { return s.prefix + "immediate" }

// scheduledKey is the Sorted Set of delayed entries scored by due time in unix milliseconds.
func (s *Store) scheduledKey() string { return s.prefix + "scheduled" }

// deadLetterKey is the List of dead letter entries in the order they were moved.
func (s *Store) deadLetterKey() string { return s.prefix + "dead_letter" }
