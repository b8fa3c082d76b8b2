package catalog

func points(v int64) *int64 { return &v }

// DefaultDocument is the catalog used when no file or database catalog is
// configured.
func DefaultDocument() Document {
	return Document{
		Tiers: []Tier{
			{
				Key: "bronce", Name: "Bronce", MinPoints: 0, MaxPoints: points(299),
				DiscountPercentage: 0,
				Benefits:           []string{"Acceso a cursos gratuitos", "Soporte por email"},
			},
			{
				Key: "plata", Name: "Plata", MinPoints: 300, MaxPoints: points(599),
				DiscountPercentage: 5,
				Benefits:           []string{"5% de descuento en cursos", "Acceso anticipado a webinars"},
			},
			{
				Key: "oro", Name: "Oro", MinPoints: 600, MaxPoints: points(999),
				DiscountPercentage: 10,
				Benefits:           []string{"10% de descuento en cursos", "Mentoría grupal mensual", "Certificados premium"},
			},
			{
				Key: "platino", Name: "Platino", MinPoints: 1000,
				DiscountPercentage: 15,
				Benefits:           []string{"15% de descuento en cursos", "Mentoría individual", "Acceso a eventos exclusivos"},
			},
		},
		Rewards: []Reward{
			{ID: "discount-10", Name: "10% de descuento", PointsCost: 500, Category: CategoryDiscount, Value: map[string]any{"percentage": 10}},
			{
				ID: "discount-20", Name: "20% de descuento", PointsCost: 900, Category: CategoryDiscount,
				Value:     map[string]any{"percentage": 20},
				Condition: `has(context.price) && double(context.price) >= 50.0`,
			},
			{ID: "free-course", Name: "Curso gratis", PointsCost: 1500, Category: CategoryFreeCourse, Value: map[string]any{"max_price": 100}},
			{ID: "mentoring-session", Name: "Sesión de mentoría", PointsCost: 800, Category: CategoryService, Value: map[string]any{"minutes": 60}},
			{ID: "webinar-pass", Name: "Pase a webinar", PointsCost: 600, Category: CategoryEvent},
			{ID: "merch-kit", Name: "Kit de bienvenida", PointsCost: 2000, Category: CategoryPhysical},
		},
	}
}

// Default returns the validated default catalog.
func Default() *Catalog {
	c, err := New(DefaultDocument())
	if err != nil {
		panic(err)
	}
	return c
}
