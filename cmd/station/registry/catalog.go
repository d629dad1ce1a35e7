package registry

import "github.com/lyzr/assembly/cmd/station/models"

const (
	FamilyRSM = "RSM"
	FamilyYBS = "YBS"
)

func part(id, itemCode, name string, seq int) models.ComponentDefinition {
	return models.ComponentDefinition{ID: id, ItemCode: itemCode, DisplayName: name, Sequence: seq}
}

func coded(id, itemCode, name string, seq int, code string) models.ComponentDefinition {
	d := part(id, itemCode, name, seq)
	d.VerificationCode = &code
	return d
}

func rsm(id, subtitle string, components ...models.ComponentDefinition) models.Variant {
	return models.Variant{
		ID:         id,
		Family:     FamilyRSM,
		Name:       "RSM Assembly - " + id,
		Subtitle:   subtitle,
		Components: components,
	}
}

// rsmSixPart is the slave-only layout: three slave PCBs, two slave-to-slave
// cables and the power cable
func rsmSixPart(id, subtitle, pcb, s2s, pc string) models.Variant {
	return rsm(id, subtitle,
		part("slave_pcb_1", pcb, "Slave PCB 1", 1),
		part("slave_pcb_2", pcb, "Slave PCB 2", 2),
		part("slave_pcb_3", pcb, "Slave PCB 3", 3),
		part("s2s_cable_1", s2s, "Slave to Slave Cable 1", 4),
		part("s2s_cable_2", s2s, "Slave to Slave Cable 2", 5),
		part("pc_cable", pc, "Power & Communication Cable", 6),
	)
}

// ybs variants print their codes on the board, so the codes are static
func ybs(id, subtitle, pcCable string) models.Variant {
	return models.Variant{
		ID:       id,
		Family:   FamilyYBS,
		Name:     "YBS Assembly - " + id,
		Subtitle: subtitle,
		Components: []models.ComponentDefinition{
			coded("left_pcb", "4YB013250", "Left Slave PCB", 1, "24"),
			coded("master_pcb", "4YB013248", "Master PCB", 2, "25"),
			coded("right_pcb", "4YB013251", "Right Slave PCB", 3, "3Q4"),
			coded("b2b_left_master", "4YB013258", "Board-to-Board (Left to Master)", 4, "O"),
			coded("b2b_master_right", "4YB013258", "Board-to-Board (Master to Right)", 5, "P"),
			coded("pc_cable", pcCable, "Power & Communication Cable", 6, "J"),
		},
	}
}

// Catalog returns the built-in variant definitions. The first entry is the
// default variant.
func Catalog() []models.Variant {
	return []models.Variant{
		rsm("5RS011027", "3Slave 1Master 70 mm",
			part("slave_pcb_1", "4RS013097", "Slave PCB 1", 1),
			part("slave_pcb_2", "4RS013097", "Slave PCB 2", 2),
			part("slave_pcb_3", "4RS013097", "Slave PCB 3", 3),
			part("master_pcb", "4RS013114", "Master PCB", 4),
			part("s2s_cable_1", "4RS013120", "Slave to Slave Cable 1", 5),
			part("s2s_cable_2", "4RS013120", "Slave to Slave Cable 2", 6),
			part("m2s_cable", "4RS013121", "Master to Slave Cable", 7),
			part("pc_cable", "4RS013122", "Power & Communication Cable", 8),
		),
		rsmSixPart("5RS011028", "6Slave 36 mm", "4RS013097", "4RS013120", "4RS013122"),
		rsmSixPart("5RS011075", "1Master 3Slave 75 mm", "4RS013097", "4RS013147", "4RS013146"),
		rsmSixPart("5RS011076", "3Slave 75 mm", "4RS013097", "4RS013120", "4RS013122"),
		rsmSixPart("5RS011092", "3Slave 92 mm", "4RS013152", "4RS013134", "4RS013124"),
		rsm("5RS011093", "2Slave 93 mm",
			part("slave_pcb_1", "4RS013152", "Slave PCB 1", 1),
			part("slave_pcb_2", "4RS013152", "Slave PCB 2", 2),
			part("s2s_cable", "4RS013134", "Slave to Slave Cable", 3),
			part("pc_cable", "4RS013124", "Power & Communication Cable", 4),
		),
		rsm("5RS011111", "3Slave 1Master 1Right 111 mm",
			part("slave_pcb_1", "4RS013097", "Slave PCB 1", 1),
			part("slave_pcb_2", "4RS013097", "Slave PCB 2", 2),
			part("slave_pcb_3", "4RS013097", "Slave PCB 3", 3),
			part("master_pcb", "4RS013114", "Master PCB", 4),
			part("s2s_cable_1", "4RS013120", "Slave to Slave Cable 1", 5),
			part("s2s_cable_2", "4RS013120", "Slave to Slave Cable 2", 6),
			part("m2r_cable", "4RS013121", "Master to Right Cable", 7),
			part("pc_cable", "4RS013122", "Power & Communication Cable", 8),
		),
		rsmSixPart("5RS011112", "3Slave 112 mm", "4RS013097", "4RS013120", "4RS013122"),
		ybs("5YB011056", "YBS Machine - Duct Number 41 - 23 Duct Assembly", "4YB013254"),
		ybs("5YB011057", "Assembly Verification", "4YB013255"),
		ybs("5YB011059", "YBS Machine - Duct Number 41 - 25 Duct Assembly", "4YB013255"),
		ybs("5YB011099", "YBS Machine - 23 Duct Assembly", "4YB013255"),
		ybs("5YB011100", "YBS Machine - 24 Duct Assembly", "4YB013255"),
		ybs("5YB011101", "YBS Machine - 25 Duct Assembly", "4YB013255"),
		ybs("5YB011111", "YBS Machine - 23 Duct Assembly", "4YB013255"),
	}
}
