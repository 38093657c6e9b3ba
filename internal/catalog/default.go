package catalog

var defaultDefinitions = []Definition{
	{ID: "crew_list", DisplayName: "Crew List", Owner: PartyShip},
	{ID: "passenger_list", DisplayName: "Passenger List", Owner: PartyShip},
	{ID: "isps_declaration", DisplayName: "ISPS Pre-Arrival Security Declaration", Owner: PartyShip},
	{ID: "health_declaration", DisplayName: "Maritime Declaration of Health", Owner: PartyShip},
	{ID: "ship_stores", DisplayName: "Ship Stores Declaration", Owner: PartyShip},
	{ID: "crew_effects", DisplayName: "Crew Effects Declaration", Owner: PartyShip},
	{ID: "cargo_manifest", DisplayName: "Cargo Manifest", Owner: PartyShip},
	{ID: "dangerous_goods", DisplayName: "Dangerous Goods Manifest", Owner: PartyShip},
	{ID: "waste_notification", DisplayName: "Waste Delivery Notification", Owner: PartyShip},
	{ID: "last_ports", DisplayName: "Last Ten Ports of Call", Owner: PartyShip},
	{ID: "agency_appointment", DisplayName: "Agency Appointment Letter", Owner: PartyOffice},
	{ID: "port_clearance", DisplayName: "Port Clearance", Owner: PartyOffice},
	{ID: "berth_confirmation", DisplayName: "Berth Confirmation", Owner: PartyOffice},
	{ID: "pilot_booking", DisplayName: "Pilot Booking Confirmation", Owner: PartyOffice},
}

// Default returns the built-in pre-arrival checklist.
func Default() *Catalog {
	c, err := New(defaultDefinitions)
	if err != nil {
		panic("catalog: invalid default definitions: " + err.Error())
	}
	return c
}
