package entities

// ZonePoints is the number of boundary points a zone is made of.
const ZonePoints = 5

// ZoneDefinition is the ordered boundary of a zone, oldest point first.
type ZoneDefinition []GeofencePoint

// Complete reports whether the zone has exactly ZonePoints points and can be dispatched.
func (z ZoneDefinition) Complete() bool { return len(z) == ZonePoints }
